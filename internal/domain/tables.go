package domain

var Tables = []interface{}{
	&WhatsAppInstance{},
	&WhatsAppDocument{},
}
