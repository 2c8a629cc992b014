package ws

// IHub routes serialized events to connections grouped in named rooms.
// Every connection is placed in its user room on registration, so
// emitting to UserRoom(id) reaches every live connection of that user.
type IHub interface {
	Run()
	Shutdown()
	RegisterClient(client *UserClient)
	UnregisterClient(client *UserClient)
	Join(client *UserClient, room string)
	Leave(client *UserClient, room string)
	EmitToRoom(room string, message []byte) int
	SendToClient(client *UserClient, message []byte) bool
	RoomSize(room string) int
	GetClientCount() int
	SetOnClientUnregister(callback func(client *UserClient) error)
}

func UserRoom(userId string) string {
	return "user:" + userId
}

func ConversationRoom(conversationId string) string {
	return "conversation:" + conversationId
}
