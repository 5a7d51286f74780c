package protocol

// FrameType 帧类型标识，对应头部的type字段
type FrameType string

// 帧类型定义 - 请求与响应
const (
	// 握手与认证
	TypeHello         FrameType = "HELLO"
	TypeHelloResponse FrameType = "HELLO_RESPONSE"
	TypeLogin         FrameType = "LOGIN"
	TypeLoginResponse FrameType = "LOGIN_RESPONSE"

	// 消息路由
	TypeMessage         FrameType = "MESSAGE"
	TypeFile            FrameType = "FILE"
	TypeMessageResponse FrameType = "MESSAGE_RESPONSE"

	// 服务器推送
	TypeStatusUpdate FrameType = "STATUS_UPDATE"

	// 连接终止
	TypeBye         FrameType = "BYE"
	TypeByeResponse FrameType = "BYE_RESPONSE"
)

// 响应状态码
const (
	StatusSuccess     = "SUCCESS"
	StatusForwarded   = "FORWARDED"
	StatusUserOffline = "USER_OFFLINE"
)

// IsValidType 检查帧类型是否有效
func IsValidType(t FrameType) bool {
	switch t {
	case TypeHello, TypeHelloResponse, TypeLogin, TypeLoginResponse,
		TypeMessage, TypeFile, TypeMessageResponse,
		TypeStatusUpdate, TypeBye, TypeByeResponse:
		return true
	default:
		return false
	}
}

// IsRequestType 判断是否为客户端请求类型
func IsRequestType(t FrameType) bool {
	switch t {
	case TypeHello, TypeLogin, TypeMessage, TypeFile, TypeBye:
		return true
	default:
		return false
	}
}

// IsResponseType 判断是否为服务器响应或推送类型
func IsResponseType(t FrameType) bool {
	switch t {
	case TypeHelloResponse, TypeLoginResponse, TypeMessageResponse,
		TypeStatusUpdate, TypeByeResponse:
		return true
	default:
		return false
	}
}

// 以下为各帧类型的头部结构。每种类型一个结构体，
// 构造函数负责固定type标签，编码统一走EncodeFrame。

// Hello 客户端握手请求
type Hello struct {
	Type        FrameType `json:"type"`
	PayloadSize uint32    `json:"payloadSize"`
}

func NewHello() *Hello {
	return &Hello{Type: TypeHello}
}

// HelloResponse 握手响应，附带已知用户列表
type HelloResponse struct {
	Type        FrameType `json:"type"`
	PayloadSize uint32    `json:"payloadSize"`
	Status      string    `json:"status"`
	UserList    []string  `json:"userList"`
}

func NewHelloResponse(userList []string) *HelloResponse {
	return &HelloResponse{Type: TypeHelloResponse, Status: StatusSuccess, UserList: userList}
}

// Login 用户名绑定请求
type Login struct {
	Type        FrameType `json:"type"`
	PayloadSize uint32    `json:"payloadSize"`
	Username    string    `json:"username"`
}

func NewLogin(username string) *Login {
	return &Login{Type: TypeLogin, Username: username}
}

// LoginResponse 登录响应，附带当前在线用户列表
type LoginResponse struct {
	Type           FrameType `json:"type"`
	PayloadSize    uint32    `json:"payloadSize"`
	OnlineUserList []string  `json:"onlineUserList"`
}

func NewLoginResponse(online []string) *LoginResponse {
	return &LoginResponse{Type: TypeLoginResponse, OnlineUserList: online}
}

// Message 文本消息头部，载荷为UTF-8文本
type Message struct {
	Type         FrameType `json:"type"`
	PayloadSize  uint32    `json:"payloadSize"`
	SenderName   string    `json:"senderName,omitempty"`
	ReceiverName string    `json:"receiverName"`
}

func NewMessage(receiver string, payloadSize uint32) *Message {
	return &Message{Type: TypeMessage, ReceiverName: receiver, PayloadSize: payloadSize}
}

// File 文件消息头部，载荷为原始字节
type File struct {
	Type         FrameType `json:"type"`
	PayloadSize  uint32    `json:"payloadSize"`
	SenderName   string    `json:"senderName,omitempty"`
	ReceiverName string    `json:"receiverName"`
	Filename     string    `json:"filename"`
}

func NewFile(receiver, filename string, payloadSize uint32) *File {
	return &File{Type: TypeFile, ReceiverName: receiver, Filename: filename, PayloadSize: payloadSize}
}

// MessageResponse 路由结果响应
type MessageResponse struct {
	Type          FrameType `json:"type"`
	PayloadSize   uint32    `json:"payloadSize"`
	Status        string    `json:"status"`
	SenderName    string    `json:"senderName,omitempty"`
	ReceiverName  string    `json:"receiverName"`
	ForwardedSize uint32    `json:"forwardedSize"`
}

func NewMessageForwarded(sender, receiver string, size uint32) *MessageResponse {
	return &MessageResponse{
		Type:          TypeMessageResponse,
		Status:        StatusForwarded,
		SenderName:    sender,
		ReceiverName:  receiver,
		ForwardedSize: size,
	}
}

func NewMessageUserOffline(receiver string, size uint32) *MessageResponse {
	return &MessageResponse{
		Type:          TypeMessageResponse,
		Status:        StatusUserOffline,
		ReceiverName:  receiver,
		ForwardedSize: size,
	}
}

// StatusUpdate 在线用户变化广播
type StatusUpdate struct {
	Type           FrameType `json:"type"`
	PayloadSize    uint32    `json:"payloadSize"`
	OnlineUserList []string  `json:"onlineUserList"`
}

func NewStatusUpdate(online []string) *StatusUpdate {
	return &StatusUpdate{Type: TypeStatusUpdate, OnlineUserList: online}
}

// Bye 连接终止请求
type Bye struct {
	Type        FrameType `json:"type"`
	PayloadSize uint32    `json:"payloadSize"`
}

func NewBye() *Bye {
	return &Bye{Type: TypeBye}
}

// ByeResponse 终止确认
type ByeResponse struct {
	Type        FrameType `json:"type"`
	PayloadSize uint32    `json:"payloadSize"`
}

func NewByeResponse() *ByeResponse {
	return &ByeResponse{Type: TypeByeResponse}
}
