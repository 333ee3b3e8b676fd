package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"roopapi/models"
	"roopapi/services"
)

func TestIdentityMonitorTransitions(t *testing.T) {
	monitor := services.NewIdentityMonitor()
	assert.Equal(t, models.StateUnauthenticated, monitor.Mode().State)

	var seen []models.IdentityMode
	cancel := monitor.OnChange(func(mode models.IdentityMode) {
		seen = append(seen, mode)
	})

	monitor.SetGuest()
	monitor.SetAuthenticated("user-1")
	monitor.SetUnauthenticated()

	assert.Equal(t, []models.IdentityMode{
		models.Guest(),
		models.Authenticated("user-1"),
		models.Unauthenticated(),
	}, seen)
	assert.Equal(t, models.StateUnauthenticated, monitor.Mode().State)

	cancel()
	monitor.SetGuest()
	assert.Len(t, seen, 3)
}

func TestIdentityMonitorNoopOnSameMode(t *testing.T) {
	monitor := services.NewIdentityMonitor()

	calls := 0
	monitor.OnChange(func(mode models.IdentityMode) {
		calls++
	})

	monitor.SetGuest()
	monitor.SetGuest()
	monitor.SetAuthenticated("user-1")
	monitor.SetAuthenticated("user-1")
	assert.Equal(t, 2, calls)

	// Switching between two different accounts is a real transition.
	monitor.SetAuthenticated("user-2")
	assert.Equal(t, 3, calls)
	assert.Equal(t, "user-2", monitor.Mode().UserID)
}
