package model

// AppState is the position of the application in the walk lifecycle.
// The order matters: states compare with < and >=.
type AppState int

const (
	StateOnboarding AppState = iota
	StatePlanning
	StateCalculatingRoute
	StateRouteConfirmed
	StateInitializingGuardian
	StateReadyToWalk
	StateActive
)

var appStateNames = [...]string{
	"ONBOARDING",
	"PLANNING",
	"CALCULATING_ROUTE",
	"ROUTE_CONFIRMED",
	"INITIALIZING_GUARDIAN",
	"READY_TO_WALK",
	"ACTIVE",
}

func (s AppState) String() string {
	if s < 0 || int(s) >= len(appStateNames) {
		return "UNKNOWN"
	}
	return appStateNames[s]
}

// MarshalText renders the state by name in JSON.
func (s AppState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Schedules reports whether lookahead generation may run in this state.
func (s AppState) Schedules() bool {
	return s >= StateReadyToWalk
}
