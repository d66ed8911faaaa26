// Package autoload registers every built-in channel factory.
package autoload

import (
	_ "spendbot/pkg/channels/telegram"
	_ "spendbot/pkg/channels/web"
)
