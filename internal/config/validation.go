package config

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别: "+g.LogLevel)
	}
	if g.LogMaxSize < 0 {
		return newFieldError("Global.LogMaxSize", "不能为负数")
	}
	if g.LogMaxBackups < 0 {
		return newFieldError("Global.LogMaxBackups", "不能为负数")
	}
	if g.AdminPort < 0 || g.AdminPort > 65535 {
		return newFieldError("Global.AdminPort", "必须在 0-65535（0 表示关闭）")
	}
	if g.UpstreamDialTimeout.DurationValue() < 0 {
		return newFieldError("Global.UpstreamDialTimeout", "不能为负数")
	}
	if g.ShutdownTimeout.DurationValue() < 0 {
		return newFieldError("Global.ShutdownTimeout", "不能为负数")
	}

	cc := c.Cache
	if cc.MaxCacheSize <= 0 {
		return newFieldError(cacheField("MaxCacheSize"), "必须大于 0")
	}
	if cc.MaxObjectSize <= 0 {
		return newFieldError(cacheField("MaxObjectSize"), "必须大于 0")
	}
	if cc.MaxObjectSize > cc.MaxCacheSize {
		return newFieldError(cacheField("MaxObjectSize"), "不能大于 MaxCacheSize")
	}
	if cc.Buckets <= 0 {
		return newFieldError(cacheField("Buckets"), "必须大于 0")
	}

	return nil
}
