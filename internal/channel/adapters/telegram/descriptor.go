// Package telegram implements the channel transport on the Telegram Bot API, receiving updates
// by long polling or webhook.
package telegram

import "github.com/memohai/terarelay/internal/channel"

// Type identifies events produced by this transport.
const Type channel.Type = "telegram"
