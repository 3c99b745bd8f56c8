package models

// Transaction is a single row of the shop table. TrxID is the only key;
// every other column is free-form and may be empty.
type Transaction struct {
	TrxID     string   `gorm:"column:trx_id;primaryKey;type:text" json:"trx_id"`
	Firstname string   `gorm:"column:firstname;type:text" json:"firstname"`
	Lastname  string   `gorm:"column:lastname;type:text" json:"lastname"`
	Email     string   `gorm:"column:email;type:text;index" json:"email"`
	Price     *float64 `gorm:"column:price" json:"price"`
	ProdDesc  string   `gorm:"column:prod_desc;type:text" json:"prod_desc"`
}

// TableName is the default table; stores may override it per connection.
func (Transaction) TableName() string {
	return "shop"
}
