package realtime

// SupportRoom reaches every connected operator.
const SupportRoom = "support:global"

// ConversationRoom is the room of one end-user conversation.
func ConversationRoom(id string) string { return "conversation:" + id }

// InternalRoom is the room of one operator-only channel.
func InternalRoom(id string) string { return "internal:room:" + id }

// Inbound event names.
const (
	InSendMessage                  = "send_message"
	InSupportMessage               = "support:message"
	InInternalMessage              = "internal:message"
	InInternalRoomMessage          = "internal:room:message"
	InInternalRoomJoin             = "internal:room:join"
	InTyping                       = "typing"
	InConversationJoin             = "conversation:join"
	InTicketViewing                = "ticket:viewing"
	InTicketLeft                   = "ticket:left"
	InNotificationMarkRead         = "notification:mark_read"
	InNotificationMarkConversation = "notification:mark_conversation_read"
	InNotificationDelete           = "notification:delete"
	InNotificationGetUnread        = "notification:get_unread"
)

// Outbound event names.
const (
	EventConnected                    = "connected"
	EventMessageNew                   = "message:new"
	EventConversationUpdated          = "conversation:updated"
	EventConversationReopened         = "conversation:reopened"
	EventConversationClosed           = "conversation:closed"
	EventConversationTicketCreated    = "conversation:ticket_created"
	EventConversationMessage          = "conversation:message"
	EventUnreadUpdate                 = "unread:update"
	EventUnreadCount                  = "unread:count"
	EventInternalUnreadUpdate         = "internal:unread:update"
	EventInternalRoomMessage          = "internal:room:message"
	EventInternalRoomUpdated          = "internal:room:updated"
	EventInternalRoomJoined           = "internal:room:joined"
	EventInternalNew                  = "internal:new"
	EventTicketNewMessage             = "ticket:new_message"
	EventNotificationMarkedRead       = "notification:marked_read"
	EventNotificationManyMarkedRead   = "notification:multiple_marked_read"
	EventNotificationConversationRead = "notification:conversation_marked_read"
	EventNotificationDeleted          = "notification:deleted"
	EventNotificationUnreadList       = "notification:unread_list"
	EventNotificationUnreadCount      = "notification:unread_count"
	EventTypingBroadcast              = "typing:broadcast"
	EventUserStatus                   = "user:status"
	EventAINoResponse                 = "ai:no_response"
	EventError                        = "error"
)
