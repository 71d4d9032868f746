package domain

var Tables = []interface{}{
	// Sessions
	&WhatsappClient{},
}
