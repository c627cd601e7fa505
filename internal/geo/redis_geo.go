package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisGeo mirrors the latest driver position per ride into a Redis GEO set,
// with a small metadata hash per ride.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key}
}

func (r *RedisGeo) Key() string { return r.key }

func (r *RedisGeo) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	return r.client.GeoAdd(ctx, key, loc).Err()
}

func (r *RedisGeo) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return r.client.HSet(ctx, key, values).Err()
}

func (r *RedisGeo) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisGeo) Close() error { return r.client.Close() }

// Member builds the GEOADD member for a location event.
func Member(ev models.LocationEvent) *redis.GeoLocation {
	return &redis.GeoLocation{Longitude: ev.Loc.Lng, Latitude: ev.Loc.Lat, Name: ev.RideID}
}

// Meta builds the metadata hash stored next to the GEO member.
func Meta(ev models.LocationEvent) map[string]interface{} {
	return map[string]interface{}{
		"driver_id": ev.DriverID,
		"updated":   ev.Updated.UTC().Format(time.RFC3339),
	}
}

func MetaKey(rideID string) string { return "ride:driver:" + rideID }
