package stream

// Client-to-server event names on the chat-support stream.
const (
	EventAdminConnect = "adminConnect"
	EventJoinRoom     = "joinChatSupportRoom"
	EventLeaveRoom    = "leaveChatSupportRoom"
)

// UserTypeAdmin is the userType staff consoles announce when joining a room.
const UserTypeAdmin = "Admin"

// AdminConnectPayload announces a staff console to the server.
type AdminConnectPayload struct {
	AdminID string `json:"adminId"`
}

// JoinRoomPayload subscribes the connection to one support room.
type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserType string `json:"userType"`
}

// LeaveRoomPayload unsubscribes the connection from a support room.
type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// AdminConnect emits adminConnect.
func (c *Conn) AdminConnect(adminID string) error {
	return c.Emit(EventAdminConnect, AdminConnectPayload{AdminID: adminID})
}

// JoinRoom emits joinChatSupportRoom as a staff member.
func (c *Conn) JoinRoom(roomID, userID string) error {
	return c.Emit(EventJoinRoom, JoinRoomPayload{RoomID: roomID, UserID: userID, UserType: UserTypeAdmin})
}

// LeaveRoom emits leaveChatSupportRoom.
func (c *Conn) LeaveRoom(roomID, userID string) error {
	return c.Emit(EventLeaveRoom, LeaveRoomPayload{RoomID: roomID, UserID: userID})
}
