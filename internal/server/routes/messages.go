package routes

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/meteo-pwa/meteo-hub/internal/lifecycle"
)

// RegisterMessageRoutes 暴露 POST /-/messages：把线格式消息投递给页面所在注册的最新 worker，
// 并在回复端口可用时返回 worker 的回复。
func RegisterMessageRoutes(app *fiber.App, client *lifecycle.Client, logger *logrus.Logger) {
	if app == nil || client == nil {
		return
	}

	app.Post("/-/messages", func(c fiber.Ctx) error {
		msg, err := lifecycle.DecodeMessage(c.Body())
		if err != nil {
			code := "invalid_message"
			if errors.Is(err, lifecycle.ErrUnknownMessage) {
				code = "unknown_message"
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": code})
		}

		reg := client.Registration()
		var target *lifecycle.Worker
		if reg != nil {
			target = reg.Newest()
		}
		if target == nil {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no_worker"})
		}

		var reply lifecycle.Message
		var port *lifecycle.MessagePort
		if ch, err := client.NewMessageChannel(); err == nil {
			ch.Port1.OnMessage(func(m lifecycle.Message) { reply = m })
			defer ch.Port1.Close()
			port = ch.Port2
		}

		err = target.PostMessage(c.Context(), msg, port)
		if errors.Is(err, lifecycle.ErrTransferUnsupported) {
			err = target.PostMessage(c.Context(), msg, nil)
		}
		if err != nil {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"action":  "post_message",
					"message": lifecycle.MessageName(msg),
					"version": target.Version(),
				}).WithError(err).Warn("post_message_failed")
			}
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "post_failed"})
		}

		payload := messageResponse{
			Delivered: true,
			Worker:    target.Version(),
			State:     target.State().String(),
		}
		if reply != nil {
			if raw, err := lifecycle.EncodeMessage(reply); err == nil {
				payload.Reply = json.RawMessage(raw)
			}
		}
		return c.JSON(payload)
	})
}

type messageResponse struct {
	Delivered bool            `json:"delivered"`
	Worker    string          `json:"worker"`
	State     string          `json:"state"`
	Reply     json.RawMessage `json:"reply,omitempty"`
}
