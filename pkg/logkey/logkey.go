package logkey

// Keys shared by every log line so traces can be grepped across handlers and stores.
const (
	TraceID   = "TRACE ID"
	ERROR     = "ERROR"
	UserID    = "UserID"
	OrderID   = "OrderID"
	ProductID = "ProductID"
	Variant   = "Variant"
)
