package flow

import (
	"fmt"
	"strings"
)

// CallFlow describes everything an agent needs to run one outbound call.
// It is supplied at call creation and read-only for the call's duration.
type CallFlow struct {
	ToPhone      string   `json:"toPhone"`
	Greeting     string   `json:"greeting"`
	Topic        string   `json:"topic"`
	Ending       string   `json:"ending"`
	Questions    []string `json:"questions"`
	BusinessInfo string   `json:"businessInfo"`

	// RecordID references the externally persisted lifecycle record.
	RecordID string `json:"recordId"`
}

func (f CallFlow) Validate() error {
	if strings.TrimSpace(f.ToPhone) == "" {
		return fmt.Errorf("toPhone is required")
	}
	return nil
}

// Instructions synthesizes the system instruction string for the realtime
// session. The greeting is mandated here rather than injected as a forced
// first turn, so configuration and greeting cannot race each other.
func (f CallFlow) Instructions() string {
	var b strings.Builder
	b.WriteString("You are a helpful, positive AI phone agent representing a business. ")
	b.WriteString("Use the following info if needed, about the business:\n")
	b.WriteString(f.BusinessInfo)
	b.WriteString("\n\nThe conversation you will be having with the user is about: ")
	b.WriteString(f.Topic)
	b.WriteString(".\n")
	if strings.TrimSpace(f.Greeting) != "" {
		fmt.Fprintf(&b, "You MUST greet the user by saying: %q\n", f.Greeting)
	}
	if len(f.Questions) > 0 {
		b.WriteString("\nThen at some point, please ask:\n  ")
		b.WriteString(strings.Join(f.Questions, "; "))
		b.WriteString("\n\nMake SURE you ask every single one of those questions, in order. Do not skip a single one.\n")
	}
	if strings.TrimSpace(f.Ending) != "" {
		fmt.Fprintf(&b, "Finally, end the call with: %q\n", f.Ending)
	}
	b.WriteString("\nBe polite, helpful, and keep the user engaged. Do not sound too much like a robot. ")
	b.WriteString("If the user asks a question you do not know the answer to, say so explicitly and suggest they contact the business directly. ")
	b.WriteString("If they attempt to change the topic or ask unrelated questions, politely steer the conversation back to the main topic.")
	return b.String()
}

// GenericInstructions is the degraded instruction set used when no flow
// was registered for a call by the time its media stream started.
func GenericInstructions() string {
	return "You are a polite AI phone agent. The call details were not available, " +
		"so greet the user, explain you are calling on behalf of a business, and " +
		"keep the conversation brief and courteous."
}
