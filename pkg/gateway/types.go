package gateway

import "spendbot/pkg/api"

// Aliases of the api types the gateway routes.
type Channel = api.Channel
type SignalingChannel = api.SignalingChannel
type DocumentChannel = api.DocumentChannel
type PickerChannel = api.PickerChannel
type MessageResponder = api.MessageResponder
type ChannelContext = api.ChannelContext
type UnifiedMessage = api.UnifiedMessage
type SessionContext = api.SessionContext
type MessageHandler = api.MessageHandler
