package domain

var Tables = []interface{}{
	// Sessions
	&WhatsAppInstance{},
	// Webhooks
	&WebhookSubscription{},
	&WebhookDelivery{},
}
