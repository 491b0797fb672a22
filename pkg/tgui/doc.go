// Package tgui holds the small Telegram UI vocabulary used by the bot:
// inline keyboards, "scope:action:payload" callback data and HTML-safe
// text helpers.
package tgui
