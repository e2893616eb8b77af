package domain

// ChatMessage is one entry of a trade's dispute/arbitration chat log.
type ChatMessage struct {
	UID           string
	TradeID       string
	SenderAddress string
	Message       string
	Timestamp     int64
	SystemMessage bool
}
