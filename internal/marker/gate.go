package marker

import "strings"

// Route names understood by the gate.
const (
	RouteLogin    = "login"
	RouteRegister = "register"
	RouteTodoList = "todolist"
)

// Gate is the request-time authorization check. It only sees whether a
// marker is present.
type Gate struct {
	Public    []string // always allowed
	Protected []string // prefixes that need a marker
	LoginPath string   // redirect target
}

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed  bool
	Redirect string
}

// DefaultGate protects the todo list and leaves login/register open.
func DefaultGate() Gate {
	return Gate{
		Public:    []string{RouteLogin, RouteRegister},
		Protected: []string{RouteTodoList},
		LoginPath: RouteLogin,
	}
}

// Allow decides whether route may be entered.
func (g Gate) Allow(route string, present bool) Decision {
	route = strings.Trim(route, "/")
	for _, p := range g.Public {
		if route == p {
			return Decision{Allowed: true}
		}
	}
	for _, p := range g.Protected {
		if route == p || strings.HasPrefix(route, p+"/") {
			if present {
				return Decision{Allowed: true}
			}
			return Decision{Redirect: g.LoginPath}
		}
	}
	return Decision{Allowed: true}
}
