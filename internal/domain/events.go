package domain

const (
	statusChannelPrefix   = "events/document"
	responseChannelPrefix = "response/document"
)

// StatusChannel names the pub/sub channel carrying status transitions for
// one document. Per-document channels keep delivery cost proportional to
// active viewers.
func StatusChannel(documentID string) string {
	return statusChannelPrefix + "/" + documentID
}

// ResponseChannel names the pub/sub channel carrying chat answer fragments
// for one document.
func ResponseChannel(documentID string) string {
	return responseChannelPrefix + "/" + documentID
}

// StatusEvent is the fan-out message published on a status channel for
// every insert or update of a status record.
type StatusEvent struct {
	ID               string `json:"id"`
	OriginalFileName string `json:"originalFileName"`
	Status           Status `json:"status"`
}

// ChatFragment is one streamed piece of a chat answer. All fragments of one
// answer carry the same message id so clients can concatenate them in
// arrival order and tell answers apart.
type ChatFragment struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// UploadEvent describes an object-created notification for a document
// content object.
type UploadEvent struct {
	Bucket string
	Key    string
}

// ChangeOp classifies a status store mutation.
type ChangeOp string

const (
	OpInsert ChangeOp = "INSERT"
	OpModify ChangeOp = "MODIFY"
	OpRemove ChangeOp = "REMOVE"
)

// ChangeEvent is one record from the status store's change stream.
type ChangeEvent struct {
	Op       ChangeOp
	Document Document
}
