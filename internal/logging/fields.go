package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ConnFields 提供连接 ID 与客户端地址字段，供调度器的请求日志复用。
func ConnFields(connID, remote string) logrus.Fields {
	return logrus.Fields{
		"conn_id": connID,
		"remote":  remote,
	}
}
