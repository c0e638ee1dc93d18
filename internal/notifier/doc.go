// Package notifier turns schedule transitions and failed reconciliation
// jobs into chat messages.
//
// It subscribes to the event bus, suppresses repeats of the same state for a
// schedule within a window, rate-limits sends and retries transient send
// errors. Telegram (gopkg.in/telebot.v4) is the built-in Sender.
package notifier
