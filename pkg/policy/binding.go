package policy

import "fmt"

// Bindings is the registry of known Binding implementations, keyed by
// name, consulted at startup to pick Engine's active binding from config.
var Bindings = map[string]Binding{
	"rules": RulesBinding{},
	"expr":  ExprBinding{},
}

// BindingByName looks up a registered Binding, defaulting to "rules" when
// name is empty.
func BindingByName(name string) (Binding, error) {
	if name == "" {
		name = "rules"
	}
	b, ok := Bindings[name]
	if !ok {
		return nil, fmt.Errorf("policy: unknown binding %q", name)
	}
	return b, nil
}
