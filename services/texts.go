package services

import (
	"fmt"
	"html"
	"strings"

	"smm-telegram/models"
)

// Texts are Telegram HTML.

const welcomeText = "👋 <b>Welcome to AUTOSOCI Bot!</b>\n" +
	"<b>Grow your social media with real engagement.</b>\n\n" +
	"🟢 <b>How does it work?</b>\n" +
	"1️⃣ Pick a platform\n" +
	"2️⃣ Choose a service\n" +
	"3️⃣ Paste your content link\n" +
	"4️⃣ Select quantity and see the price\n" +
	"5️⃣ Pay via UPI (QR code)\n" +
	"6️⃣ Upload the payment screenshot\n" +
	"7️⃣ An admin approves and your order is processed\n\n" +
	"ℹ️ YouTube WatchTime needs <b>Manager Access</b>. Type /manageraccess to learn more.\n\n" +
	"Tap a platform below to get started 👇"

const managerAccessText = "<b>What \"Manager Access\" means</b>\n\n" +
	"The provider needs permission to upload one video to your YouTube channel. That video collects the watch time.\n\n" +
	"<b>How to give Manager Access</b>\n" +
	"1️⃣ Open <b>YouTube Studio</b>\n" +
	"2️⃣ Go to <b>Settings → Channel → Advanced settings</b>\n" +
	"3️⃣ Under <b>Channel managers</b> click <b>Add or remove managers</b>\n" +
	"4️⃣ Add the email given in the service details with <b>Manager</b> permission\n\n" +
	"<b>Important</b>\n" +
	"✅ Keep the access until the order is completed\n" +
	"✅ Do not delete the uploaded video while the order runs\n" +
	"❌ Removing the access or the video ends the order without delivery\n" +
	"✅ You can publish or delete the video one day after completion"

var platformEmoji = map[models.Platform]string{
	models.PlatformInstagram: "📸",
	models.PlatformYouTube:   "🎬",
	models.PlatformTelegram:  "✈️",
	models.PlatformTwitter:   "🐦",
	models.PlatformFacebook:  "📘",
	models.PlatformTikTok:    "🎵",
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// linkPrompt asks for the kind of link the service works on.
func linkPrompt(e *models.ServiceEntry) string {
	n := e.Name
	switch e.Platform {
	case models.PlatformYouTube:
		if containsAny(n, "Subscribe", "Subscriber") {
			return "🔗 Please send your YouTube <b>channel link</b>."
		}
		return "🔗 Please send your YouTube <b>video link</b>."
	case models.PlatformInstagram:
		if containsAny(n, "Follower") {
			return "🔗 Please send your Instagram <b>profile link</b>."
		}
		return "🔗 Please send your Instagram <b>post or story link</b>."
	case models.PlatformTelegram:
		if containsAny(n, "Member", "Subscriber") {
			return "🔗 Please send your Telegram <b>channel or group link</b>."
		}
		return "🔗 Please send your Telegram <b>post link</b>."
	case models.PlatformTwitter:
		if containsAny(n, "Follower") {
			return "🔗 Please send your Twitter <b>profile link</b>."
		}
		return "🔗 Please send your <b>tweet link</b>."
	case models.PlatformFacebook:
		if containsAny(n, "Follower", "Page") {
			return "🔗 Please send your Facebook <b>page or profile link</b>."
		}
		return "🔗 Please send your Facebook <b>post or video link</b>."
	case models.PlatformTikTok:
		if containsAny(n, "Follower") {
			return "🔗 Please send your TikTok <b>profile link</b>."
		}
		return "🔗 Please send your TikTok <b>video link</b>."
	}
	return fmt.Sprintf("🔗 Please send your %s link.", html.EscapeString(string(e.Platform)))
}

func fulfillmentStatusText(o *models.Order) string {
	switch o.FulfillmentStatus {
	case "":
		return ""
	case models.FulfillmentPartial:
		if o.FulfillmentRemains != nil {
			return fmt.Sprintf("partial, %d remaining", *o.FulfillmentRemains)
		}
	}
	return o.FulfillmentStatus
}

func statusEmoji(s models.OrderStatus) string {
	switch s {
	case models.OrderStatusApproved:
		return "✅"
	case models.OrderStatusRejected:
		return "❌"
	}
	return "⏳"
}
