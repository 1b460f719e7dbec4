package transcript

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) String() string { return string(r) }

// DisplayName is the label UIs show next to a turn.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// Turn is one committed message of a conversation. Turns are values; once
// appended to a Store they are never modified.
type Turn struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

func UserTurn(content string) Turn { return Turn{Role: RoleUser, Content: content} }

func AssistantTurn(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }
