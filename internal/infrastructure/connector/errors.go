package connector

import "errors"

// ErrNoConnectors 没有任何交易所连接器初始化成功
var ErrNoConnectors = errors.New("no exchange connectors initialized")
