package dispense

import "errors"

// Sentinel errors reported by collaborators and carried in outcomes.
var (
	// ErrSensorUnavailable is returned by a Sensor that has no sample this poll.
	ErrSensorUnavailable = errors.New("sensor unavailable")
	// ErrActuatorFault wraps failures to open or close the dispenser.
	ErrActuatorFault = errors.New("actuator fault")
	// ErrSafetyTimeout marks an attempt that ran out of time.
	ErrSafetyTimeout = errors.New("dispense safety timeout")
	// ErrCollaboratorPanic marks an attempt aborted by a panicking driver.
	ErrCollaboratorPanic = errors.New("dispense collaborator panicked")
	// ErrMissingCollaborator is returned by New when a driver is nil.
	ErrMissingCollaborator = errors.New("dispense controller needs settings, actuator and sensor")
)
