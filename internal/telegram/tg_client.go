package telegram

import (
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the part of tgbotapi.BotAPI used to deliver messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client delivers queued texts to one Telegram chat.
type Client struct {
	ChatID int64
	Send   chan string
	sender Sender
	done   chan struct{}
}

func NewClient(sender Sender, chatID int64, buffer int) *Client {
	return &Client{
		ChatID: chatID,
		Send:   make(chan string, buffer),
		sender: sender,
		done:   make(chan struct{}),
	}
}

// Run starts the write pump.
func (c *Client) Run() {
	go c.writePump()
}

// Close stops accepting texts; queued ones are still delivered.
func (c *Client) Close() {
	close(c.Send)
}

// Done is closed once every queued text was handed to Telegram.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Enqueue queues text without blocking and reports whether it fit.
func (c *Client) Enqueue(text string) bool {
	select {
	case c.Send <- text:
		return true
	default:
		log.Printf("WARNING: telegram queue for chat %d is full, dropping message", c.ChatID)
		return false
	}
}

func (c *Client) writePump() {
	defer close(c.done)
	for text := range c.Send {
		msg := tgbotapi.NewMessage(c.ChatID, text)
		if _, err := c.sender.Send(msg); err != nil {
			log.Printf("ERROR: failed to send telegram message to %d: %v", c.ChatID, err)
		}
	}
}
