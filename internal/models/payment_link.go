package models

type PaymentLink struct {
	BaseModel
	MerchantID  string `gorm:"size:36;not null;index" json:"merchantId"`
	Title       string `gorm:"size:255;not null" json:"title"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	Amount      string `gorm:"size:32;not null" json:"amount"`
	Currency    string `gorm:"size:3;not null" json:"currency"`
	Active      bool   `gorm:"not null;default:true" json:"active"`
}
