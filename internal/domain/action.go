package domain

// ActionType names a conversation action an operator or the assistant may trigger.
type ActionType string

const (
	ActionCreateTicket      ActionType = "create_ticket"
	ActionCloseConversation ActionType = "close_conversation"
	ActionEscalate          ActionType = "escalate"
	ActionFlagMessage       ActionType = "flag_message"
	ActionBanUser           ActionType = "ban_user"
	ActionNoAction          ActionType = "no_action"
)

// Valid reports whether the action is known.
func (a ActionType) Valid() bool {
	switch a {
	case ActionCreateTicket, ActionCloseConversation, ActionEscalate, ActionFlagMessage, ActionBanUser, ActionNoAction:
		return true
	}
	return false
}
