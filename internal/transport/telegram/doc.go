// Package telegram is the chat command surface: owners can check status,
// inspect a schedule and run a reconciliation pass from Telegram.
//
// The Router is transport-agnostic; Bot connects it to the Bot API through
// telebot long polling.
package telegram
