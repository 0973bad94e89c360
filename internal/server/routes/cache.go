package routes

import (
	"sort"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/cacheproxy/internal/cache"
	"github.com/any-hub/cacheproxy/internal/server"
)

// CacheSource 是诊断接口依赖的缓存能力，*cache.Cache 满足该接口。
type CacheSource interface {
	Stats() cache.Stats
	Walk(fn func(key string, body []byte) bool)
}

// RegisterCacheRoutes 暴露 /-/cache 诊断接口，供运维查询容量、命中率与缓存对象。
func RegisterCacheRoutes(app *fiber.App, source CacheSource) {
	if app == nil || source == nil {
		return
	}

	app.Get("/-/cache", func(c fiber.Ctx) error {
		return c.JSON(encodeStats(source.Stats()))
	})

	app.Get("/-/cache/entries", func(c fiber.Ctx) error {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error":      "invalid_limit",
					"request_id": server.RequestID(c),
				})
			}
			limit = parsed
		}
		entries := collectEntries(source, limit)
		return c.JSON(fiber.Map{
			"count":   len(entries),
			"entries": entries,
		})
	})
}

type statsPayload struct {
	cache.Stats
	HitRatio float64 `json:"hit_ratio"`
}

type entryPayload struct {
	Key  string `json:"key"`
	Size int    `json:"size"`
}

func encodeStats(stats cache.Stats) statsPayload {
	payload := statsPayload{Stats: stats}
	if lookups := stats.Hits + stats.Misses; lookups > 0 {
		payload.HitRatio = float64(stats.Hits) / float64(lookups)
	}
	return payload
}

// collectEntries 返回按 key 排序的条目列表，limit 为 0 表示不限制。
func collectEntries(source CacheSource, limit int) []entryPayload {
	entries := make([]entryPayload, 0)
	source.Walk(func(key string, body []byte) bool {
		entries = append(entries, entryPayload{Key: key, Size: len(body)})
		return true
	})
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
