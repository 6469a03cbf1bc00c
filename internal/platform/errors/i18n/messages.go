package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
const (
	CodeRoomIDRequired       = "PRESENCE_ROOM_ID_REQUIRED"
	CodeConnectionIDRequired = "PRESENCE_CONNECTION_ID_REQUIRED"
	CodeConnectionNotFound   = "PRESENCE_CONNECTION_NOT_FOUND"
	CodeRelayUnavailable     = "RELAY_UNAVAILABLE"
)

var enUSMessages = map[Code]string{
	CodeRoomIDRequired:       "A room id is required.",
	CodeConnectionIDRequired: "A connection id is required.",
	CodeConnectionNotFound:   "Connection {{.ConnectionID}} is not in any room.",
	CodeRelayUnavailable:     "The relay is not accepting requests right now.",
}

var ptBRMessages = map[Code]string{
	CodeRoomIDRequired:       "Informe o id da sala.",
	CodeConnectionIDRequired: "Informe o id da conexão.",
	CodeConnectionNotFound:   "A conexão {{.ConnectionID}} não está em nenhuma sala.",
	CodeRelayUnavailable:     "O relay não está aceitando requisições no momento.",
}
