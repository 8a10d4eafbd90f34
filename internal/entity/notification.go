package entity

type EmailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// CancellationReport is what the admin report sink receives when a booking is cancelled.
type CancellationReport struct {
	Booking         *Booking `json:"booking"`
	Passenger       *User    `json:"passenger"`
	VehicleTypeName string   `json:"vehicleTypeName"`
	CancelledBy     string   `json:"cancelledBy"`
	Reason          string   `json:"reason"`
}
