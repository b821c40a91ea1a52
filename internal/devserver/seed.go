package devserver

import (
	"github.com/tOgg1/campusmarket/internal/models"
)

// Demo users created by Seed.
var (
	DemoSeller = models.UserRef{ID: "u-seller", Name: "Sam Seller"}
	DemoBuyer  = models.UserRef{ID: "u-buyer", Name: "Bea Buyer"}
	DemoFriend = models.UserRef{ID: "u-friend", Name: "Finn"}
)

// Seed fills b with a small marketplace: a trade in progress, a plain
// chat without a product, and an empty conversation.
func Seed(b *Backend) []models.Conversation {
	lamp := b.AddConversation(models.Conversation{
		ID:           "conv-lamp",
		Participants: []models.UserRef{DemoBuyer, DemoSeller},
		Product: &models.Product{
			ID:     "prod-lamp",
			Title:  "Desk lamp",
			Price:  15,
			Seller: DemoSeller,
			Status: "available",
		},
	})
	chat := b.AddConversation(models.Conversation{
		ID:           "conv-notes",
		Participants: []models.UserRef{DemoBuyer, DemoFriend},
	})
	empty := b.AddConversation(models.Conversation{
		ID:           "conv-bike",
		Participants: []models.UserRef{DemoSeller, DemoFriend},
		Product: &models.Product{
			ID:     "prod-bike",
			Title:  "City bike",
			Price:  120,
			Seller: DemoSeller,
			Status: "available",
		},
	})

	_, _ = b.Post(DemoBuyer.ID, lamp.ID, models.OutgoingMessage{Content: "Hi! Is the lamp still available?"})
	_, _ = b.Post(DemoSeller.ID, lamp.ID, models.OutgoingMessage{Content: "Yes, pick it up at the library?"})
	_, _ = b.Post(DemoSeller.ID, lamp.ID, models.OutgoingMessage{
		Location: &models.Location{Latitude: 59.9399, Longitude: 10.7217, Label: "University library"},
	})
	_, _ = b.Post(DemoFriend.ID, chat.ID, models.OutgoingMessage{Content: "Can I borrow your lecture notes?"})

	return []models.Conversation{lamp, chat, empty}
}
