package protocol

// Type discriminates the messages exchanged between client and server.
type Type string

const (
	TypeInstall   Type = "install"
	TypeUninstall Type = "uninstall"
	TypeUpload    Type = "upload"
	TypeUser      Type = "user"
	TypePackage   Type = "package"
	TypeVersion   Type = "version"
	TypeAuth      Type = "auth"
	TypeQuit      Type = "quit"
	TypeReply     Type = "reply"

	// TypeForceQuit instructs the receiving client to terminate
	// immediately. Broadcast by the server during shutdown; carries no
	// other fields and receives no reply.
	TypeForceQuit Type = "force_quit"
)

// Method selects the operation of a "user" request.
type Method string

const (
	MethodGet    Method = "get"
	MethodCreate Method = "create"
	MethodVerify Method = "verify"
	MethodDelete Method = "delete"
)

// RecentLabel is the reserved version label resolving to the
// most-recently-uploaded version of a package.
const RecentLabel = "RECENT"

// Message is one unit of the wire protocol. Fields beyond Type are
// populated per request type; unset fields are omitted from the
// encoding. Password always carries a one-way digest, never plaintext.
type Message struct {
	Type     Type   `cbor:"type"`
	Method   Method `cbor:"method,omitempty"`
	Username string `cbor:"username,omitempty"`
	Package  string `cbor:"package,omitempty"`
	Version  string `cbor:"version,omitempty"`
	Password string `cbor:"password,omitempty"`

	// Profile fields of a user/create request.
	Email       string `cbor:"email,omitempty"`
	Website     string `cbor:"website,omitempty"`
	RepoLink    string `cbor:"repo_link,omitempty"`
	Description string `cbor:"description,omitempty"`

	// Content is the package payload of an upload request.
	Content []byte `cbor:"content,omitempty"`

	// Reply is set only on messages of TypeReply.
	Reply *Reply `cbor:"reply,omitempty"`
}

// ReplyKind tags the variant carried by a Reply.
type ReplyKind uint8

const (
	// KindStatus carries a short status or error string ("success",
	// "available", "taken", or human-readable failure text).
	KindStatus ReplyKind = iota
	// KindBool carries a yes/no answer (auth results, existence probes).
	KindBool
	// KindContent carries binary package content.
	KindContent
)

// Reply is the result payload of a request. Exactly one variant is
// meaningful, selected by Kind; every request except quit receives
// exactly one Reply.
type Reply struct {
	Kind    ReplyKind `cbor:"kind"`
	Status  string    `cbor:"status,omitempty"`
	OK      bool      `cbor:"ok,omitempty"`
	Content []byte    `cbor:"content,omitempty"`
}

// Well-known status strings.
const (
	StatusSuccess   = "success"
	StatusAvailable = "available"
	StatusTaken     = "taken"
)

// StatusReply builds a reply message carrying a status string.
func StatusReply(status string) *Message {
	return &Message{Type: TypeReply, Reply: &Reply{Kind: KindStatus, Status: status}}
}

// BoolReply builds a reply message carrying a boolean result.
func BoolReply(ok bool) *Message {
	return &Message{Type: TypeReply, Reply: &Reply{Kind: KindBool, OK: ok}}
}

// ContentReply builds a reply message carrying binary package content.
func ContentReply(content []byte) *Message {
	return &Message{Type: TypeReply, Reply: &Reply{Kind: KindContent, Content: content}}
}
