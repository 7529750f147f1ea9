// Package agent implements the provider-agnostic agent loop: it turns a
// thread into a provider call, interprets the response, dispatches tool
// invocations, feeds results back, and streams structured events to
// observers until no tool work remains.
package agent

// ModelSize selects between a provider's large and small default models
// when an agent does not pin an explicit model name.
type ModelSize string

const (
	SizeBig   ModelSize = "BIG"
	SizeSmall ModelSize = "SMALL"
)

// DefaultTemperature applies when an agent does not set its own.
const DefaultTemperature = 0.8

// Agent is a configured persona: system instructions, model selection,
// sampling temperature, and the tools it may call.
type Agent struct {
	Name         string
	Description  string
	Instructions string

	// Provider names the backing provider; empty selects the registry
	// default.
	Provider string

	// ModelSize picks the provider's BIG or SMALL default model.
	// ModelName, when set, overrides the size-based choice.
	ModelSize ModelSize
	ModelName string

	// Temperature is tri-state: nil means DefaultTemperature.
	Temperature *float64

	Tools *ToolSet
}

// DefaultAgent is the built-in persona used when a project configures
// none.
func DefaultAgent() *Agent {
	return &Agent{
		Name:         "Coday",
		Description:  "General-purpose assistant",
		Instructions: "You are Coday, a helpful assistant. Use the available tools when they help you answer accurately.",
		ModelSize:    SizeBig,
	}
}

func (a *Agent) temperature() float64 {
	if a.Temperature != nil {
		return *a.Temperature
	}
	return DefaultTemperature
}

func (a *Agent) size() ModelSize {
	if a.ModelSize == SizeSmall {
		return SizeSmall
	}
	return SizeBig
}

// Model resolves the model name the agent should run on p: the explicit
// override when set, the provider's size default otherwise.
func (a *Agent) Model(p Provider) string {
	if a.ModelName != "" {
		return a.ModelName
	}
	return p.DefaultModel(a.size())
}
