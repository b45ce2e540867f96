package svc

import "errors"

// ErrStorageInitFailed 错误：存储初始化失败
var ErrStorageInitFailed = errors.New("storage initialization failed")

// ErrHTTPServer 错误：HTTP 服务异常退出
var ErrHTTPServer = errors.New("http server failed")
