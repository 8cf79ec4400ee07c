package common

// APIResponse 通用响应
// Code 为机器可读的业务码，仅在调用方需要分支处理时填写。
type APIResponse struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse 统一错误返回
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// PagedData 列表数据与总数
type PagedData struct {
	Items interface{} `json:"items"`
	Total int64       `json:"total"`
}
