package camera

// DeregisterSensor is exported for tests that register throwaway models.
var DeregisterSensor = deregisterSensor

// IsRegisteredSensor reports whether a model is registered.
func IsRegisteredSensor(model string) bool {
	_, ok := lookupSensor(model)
	return ok
}
