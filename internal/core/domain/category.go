package domain

import "time"

type Category struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	ProductCount int64     `json:"product_count"`
}
