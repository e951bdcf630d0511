// Package routing reads and switches the SMS vendor routing records kept in
// each stack's Mongo deployment.
//
// Every country has two records, sequence 1 (primary) and sequence 2
// (secondary). A switch swaps the two ordinals. The two updates are
// independent single-document writes: there is no multi-document
// transaction, a failure after the first update leaves the records
// half-swapped and is reported rather than rolled back. Running the switch
// again restores the original assignment.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Sequence ordinals for the two routing records of a country.
const (
	SeqPrimary   = 1
	SeqSecondary = 2
)

// ErrCountryNotFound is returned when no routing records exist for a country.
var ErrCountryNotFound = errors.New("no routing records for country")

// Route is one vendor routing record.
type Route struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Country      string             `bson:"country"`
	CountryName  string             `bson:"countryName"`
	Vendor       string             `bson:"vendor"`
	MTCode       string             `bson:"mtCode"`
	Seq          int32              `bson:"seq"`
	LastModified time.Time          `bson:"lastModifiedDate"`
}

// Pair holds a country's primary and secondary routes. Either may be nil
// when the corresponding record is missing; the operator is told which.
type Pair struct {
	Primary   *Route
	Secondary *Route
}

// Directory is a handle on one stack's routing collection.
type Directory struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

// Connect opens the routing directory at the given Mongo URI.
func Connect(ctx context.Context, uri, database, collection string) (*Directory, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("routing: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.SecondaryPreferred()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("routing: ping: %w", err)
	}
	return &Directory{
		client: client,
		coll:   client.Database(database).Collection(collection),
		now:    time.Now,
	}, nil
}

// Close disconnects from Mongo.
func (d *Directory) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

// Lookup returns the primary and secondary routes for a country.
func (d *Directory) Lookup(ctx context.Context, country string) (*Pair, error) {
	routes, err := d.fetch(ctx, country)
	if err != nil {
		return nil, err
	}

	pair := &Pair{}
	for i := range routes {
		switch routes[i].Seq {
		case SeqPrimary:
			pair.Primary = &routes[i]
		case SeqSecondary:
			pair.Secondary = &routes[i]
		}
	}
	return pair, nil
}

// Swap flips the primary/secondary ordinals for a country, stamping a new
// modification time on each record. Both updates are attempted even when the
// first fails; the returned error aggregates whatever went wrong.
func (d *Directory) Swap(ctx context.Context, country string) error {
	routes, err := d.fetch(ctx, country)
	if err != nil {
		return err
	}

	var errs []error
	for _, upd := range planSwap(routes, d.now()) {
		_, err := d.coll.UpdateOne(ctx,
			bson.M{"_id": upd.ID},
			bson.M{"$set": bson.M{"seq": upd.Seq, "lastModifiedDate": upd.LastModified}},
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("routing: update %s seq %d: %w", upd.ID.Hex(), upd.Seq, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Directory) fetch(ctx context.Context, country string) ([]Route, error) {
	opts := options.Find().SetSort(bson.D{{Key: "country", Value: 1}, {Key: "seq", Value: 1}})
	cursor, err := d.coll.Find(ctx, bson.M{"country": country}, opts)
	if err != nil {
		return nil, fmt.Errorf("routing: find %s: %w", country, err)
	}
	var routes []Route
	if err := cursor.All(ctx, &routes); err != nil {
		return nil, fmt.Errorf("routing: decode %s: %w", country, err)
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCountryNotFound, country)
	}
	return routes, nil
}

// routeUpdate is one planned single-document write of a swap.
type routeUpdate struct {
	ID           primitive.ObjectID
	Seq          int32
	LastModified time.Time
}

// planSwap computes the per-record writes for a primary/secondary switch.
// Records with ordinals other than 1 or 2 are left untouched.
func planSwap(routes []Route, now time.Time) []routeUpdate {
	var updates []routeUpdate
	for _, r := range routes {
		newSeq, ok := swappedSeq(r.Seq)
		if !ok {
			continue
		}
		updates = append(updates, routeUpdate{ID: r.ID, Seq: newSeq, LastModified: now})
	}
	return updates
}

func swappedSeq(seq int32) (int32, bool) {
	switch seq {
	case SeqPrimary:
		return SeqSecondary, true
	case SeqSecondary:
		return SeqPrimary, true
	}
	return seq, false
}
