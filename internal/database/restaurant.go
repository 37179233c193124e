package database

import "context"

// GetRestaurantConfig returns the singleton configuration row.
func (q *Queries) GetRestaurantConfig(ctx context.Context) (RestaurantConfig, error) {
	var c RestaurantConfig
	err := q.db.QueryRow(ctx, `
		SELECT name, logo_url, latitude, longitude, delivery_range, font_family, updated_at
		FROM restaurant_config WHERE id = 1`,
	).Scan(&c.Name, &c.LogoURL, &c.Latitude, &c.Longitude, &c.DeliveryRange, &c.FontFamily, &c.UpdatedAt)
	return c, err
}

// UpsertRestaurantConfig creates the singleton on first write and updates it in place afterwards.
func (q *Queries) UpsertRestaurantConfig(ctx context.Context, arg RestaurantConfig) (RestaurantConfig, error) {
	var c RestaurantConfig
	err := q.db.QueryRow(ctx, `
		INSERT INTO restaurant_config (id, name, logo_url, latitude, longitude, delivery_range, font_family, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    logo_url = EXCLUDED.logo_url,
		    latitude = EXCLUDED.latitude,
		    longitude = EXCLUDED.longitude,
		    delivery_range = EXCLUDED.delivery_range,
		    font_family = EXCLUDED.font_family,
		    updated_at = now()
		RETURNING name, logo_url, latitude, longitude, delivery_range, font_family, updated_at`,
		arg.Name, arg.LogoURL, arg.Latitude, arg.Longitude, arg.DeliveryRange, arg.FontFamily,
	).Scan(&c.Name, &c.LogoURL, &c.Latitude, &c.Longitude, &c.DeliveryRange, &c.FontFamily, &c.UpdatedAt)
	return c, err
}
