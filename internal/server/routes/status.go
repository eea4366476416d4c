package routes

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/meteo-pwa/meteo-hub/internal/cache"
	"github.com/meteo-pwa/meteo-hub/internal/lifecycle"
	"github.com/meteo-pwa/meteo-hub/internal/server"
)

// RegisterStatusRoutes 暴露 /-/status，输出注册、worker、页面与缓存桶的快照。
func RegisterStatusRoutes(app *fiber.App, host *lifecycle.Host, store cache.Storage, table *server.RouteTable) {
	if app == nil || host == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		payload := statusPayload{
			Registrations: encodeRegistrations(host.Registrations()),
			Clients:       encodeClients(host.Clients()),
		}
		if table != nil {
			payload.Domain = table.Domain()
			payload.Origin = table.Origin().String()
			payload.APIHosts = table.APIPatterns()
		}
		if store != nil {
			buckets, err := encodeBuckets(c.Context(), store)
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_unavailable"})
			}
			payload.Buckets = buckets
		}
		return c.JSON(payload)
	})
}

type statusPayload struct {
	Domain        string                `json:"domain,omitempty"`
	Origin        string                `json:"origin,omitempty"`
	APIHosts      []string              `json:"api_hosts,omitempty"`
	Registrations []registrationPayload `json:"registrations"`
	Clients       []clientPayload       `json:"clients"`
	Buckets       []bucketPayload       `json:"buckets"`
}

type workerPayload struct {
	ID        string `json:"id"`
	Version   string `json:"version"`
	ScriptURL string `json:"script_url"`
	State     string `json:"state"`
}

type registrationPayload struct {
	Scope      string         `json:"scope"`
	Installing *workerPayload `json:"installing"`
	Waiting    *workerPayload `json:"waiting"`
	Active     *workerPayload `json:"active"`
}

type clientPayload struct {
	ID         string `json:"id"`
	Path       string `json:"path"`
	Controller string `json:"controller,omitempty"`
}

type bucketPayload struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
}

func encodeWorker(w *lifecycle.Worker) *workerPayload {
	if w == nil {
		return nil
	}
	return &workerPayload{
		ID:        w.ID(),
		Version:   w.Version(),
		ScriptURL: w.ScriptURL(),
		State:     w.State().String(),
	}
}

func encodeRegistrations(regs []*lifecycle.Registration) []registrationPayload {
	result := make([]registrationPayload, 0, len(regs))
	for _, reg := range regs {
		result = append(result, registrationPayload{
			Scope:      reg.Scope(),
			Installing: encodeWorker(reg.Installing()),
			Waiting:    encodeWorker(reg.Waiting()),
			Active:     encodeWorker(reg.Active()),
		})
	}
	return result
}

func encodeClients(clients []*lifecycle.Client) []clientPayload {
	result := make([]clientPayload, 0, len(clients))
	for _, client := range clients {
		item := clientPayload{ID: client.ID(), Path: client.Path()}
		if controller := client.Controller(); controller != nil {
			item.Controller = controller.Version()
		}
		result = append(result, item)
	}
	return result
}

func encodeBuckets(ctx context.Context, store cache.Storage) ([]bucketPayload, error) {
	names, err := store.Names(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]bucketPayload, 0, len(names))
	for _, name := range names {
		// 列名与读取之间桶可能已被清理，跳过即可，不能借状态查询把它重建出来。
		bucket, err := store.Lookup(ctx, name)
		if errors.Is(err, cache.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		keys, err := bucket.Keys(ctx)
		if err != nil {
			return nil, err
		}
		result = append(result, bucketPayload{Name: name, Entries: len(keys)})
	}
	return result, nil
}
