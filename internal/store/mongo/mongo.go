// Package mongo implements store.Store on MongoDB. Organization and admin
// records live in the organizations and admins collections of the master
// database; each organization namespace is a collection of its own.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/store"
)

const (
	organizationsCollection = "organizations"
	adminsCollection        = "admins"
)

// MongoDB server error codes
const (
	codeNamespaceNotFound = 26
	codeNamespaceExists   = 48
)

type organizationDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Name      string             `bson:"organization_name"`
	Namespace string             `bson:"collection_name"`
	AdminID   primitive.ObjectID `bson:"admin_user_id"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

func (d organizationDoc) record() *store.Organization {
	return &store.Organization{
		ID:        d.ID.Hex(),
		Name:      d.Name,
		Namespace: d.Namespace,
		AdminID:   d.AdminID.Hex(),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// newOrganizationDoc builds the stored form of org. The admin reference is
// kept as an ObjectID so it matches the _id of the admins collection.
func newOrganizationDoc(org *store.Organization, now time.Time) (organizationDoc, error) {
	adminID, err := primitive.ObjectIDFromHex(org.AdminID)
	if err != nil {
		return organizationDoc{}, fmt.Errorf("invalid admin id %q: %w", org.AdminID, err)
	}
	return organizationDoc{
		ID:        primitive.NewObjectID(),
		Name:      org.Name,
		Namespace: org.Namespace,
		AdminID:   adminID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

type adminDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Email     string             `bson:"email"`
	Password  string             `bson:"password"`
	CreatedAt time.Time          `bson:"created_at"`
}

func (d adminDoc) record() store.Admin {
	return store.Admin{
		ID:           d.ID.Hex(),
		Email:        d.Email,
		PasswordHash: d.Password,
		CreatedAt:    d.CreatedAt,
	}
}

type Store struct {
	client *mongo.Client
	db     *mongo.Database
	orgs   *mongo.Collection
	admins *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// Connect dials uri and returns a Store on database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	s, err := New(ctx, client, database)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// New wraps an established client and ensures the unique indexes exist.
func New(ctx context.Context, client *mongo.Client, database string) (*Store, error) {
	db := client.Database(database)
	s := &Store{
		client: client,
		db:     db,
		orgs:   db.Collection(organizationsCollection),
		admins: db.Collection(adminsCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.orgs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "organization_name", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "collection_name", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "admin_user_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create organization indexes: %w", err)
	}
	_, err = s.admins.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "email", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create admin indexes: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func commandCode(err error) int32 {
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

func (s *Store) InsertOrganization(ctx context.Context, org *store.Organization) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc, err := newOrganizationDoc(org, now)
	if err != nil {
		return err
	}
	if _, err := s.orgs.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("failed to insert organization: %w", err)
	}
	org.ID = doc.ID.Hex()
	org.CreatedAt = now
	org.UpdatedAt = now
	return nil
}

func (s *Store) findOrganization(ctx context.Context, filter bson.D) (*store.Organization, error) {
	var doc organizationDoc
	err := s.orgs.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find organization: %w", err)
	}
	return doc.record(), nil
}

func (s *Store) FindOrganizationByID(ctx context.Context, id string) (*store.Organization, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	return s.findOrganization(ctx, bson.D{{Key: "_id", Value: oid}})
}

func (s *Store) FindOrganizationByName(ctx context.Context, name string) (*store.Organization, error) {
	return s.findOrganization(ctx, bson.D{{Key: "organization_name", Value: name}})
}

func (s *Store) FindOrganizationByNamespace(ctx context.Context, namespace string) (*store.Organization, error) {
	return s.findOrganization(ctx, bson.D{{Key: "collection_name", Value: namespace}})
}

func (s *Store) FindOrganizationByAdminID(ctx context.Context, adminID string) (*store.Organization, error) {
	oid, err := primitive.ObjectIDFromHex(adminID)
	if err != nil {
		return nil, nil
	}
	return s.findOrganization(ctx, bson.D{{Key: "admin_user_id", Value: oid}})
}

func (s *Store) UpdateOrganization(ctx context.Context, id, name, namespace string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return store.ErrNotFound
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "organization_name", Value: name},
		{Key: "collection_name", Value: namespace},
		{Key: "updated_at", Value: time.Now().UTC()},
	}}}
	res, err := s.orgs.UpdateByID(ctx, oid, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("failed to update organization: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteOrganization(ctx context.Context, id string) error {
	return deleteByID(ctx, s.orgs, id, "organization")
}

func deleteByID(ctx context.Context, coll *mongo.Collection, id, what string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return store.ErrNotFound
	}
	res, err := coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", what, err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) InsertAdmin(ctx context.Context, admin *store.Admin) error {
	doc := adminDoc{
		ID:        primitive.NewObjectID(),
		Email:     admin.Email,
		Password:  admin.PasswordHash,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.admins.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert admin: %w", err)
	}
	admin.ID = doc.ID.Hex()
	admin.CreatedAt = doc.CreatedAt
	return nil
}

func (s *Store) FindAdminByID(ctx context.Context, id string) (*store.Admin, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	var doc adminDoc
	err = s.admins.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find admin: %w", err)
	}
	a := doc.record()
	return &a, nil
}

func (s *Store) FindAdminsByEmail(ctx context.Context, email string) ([]store.Admin, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.admins.Find(ctx, bson.D{{Key: "email", Value: email}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find admins: %w", err)
	}
	var docs []adminDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode admins: %w", err)
	}
	admins := make([]store.Admin, 0, len(docs))
	for _, d := range docs {
		admins = append(admins, d.record())
	}
	return admins, nil
}

func (s *Store) UpdateAdminEmail(ctx context.Context, id, email string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return store.ErrNotFound
	}
	res, err := s.admins.UpdateByID(ctx, oid, bson.D{{Key: "$set", Value: bson.D{{Key: "email", Value: email}}}})
	if err != nil {
		return fmt.Errorf("failed to update admin email: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAdmin(ctx context.Context, id string) error {
	return deleteByID(ctx, s.admins, id, "admin")
}

func (s *Store) namespaceExists(ctx context.Context, name string) (bool, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return false, fmt.Errorf("failed to list collections: %w", err)
	}
	return len(names) > 0, nil
}

func (s *Store) CreateNamespace(ctx context.Context, name string) error {
	if err := s.db.CreateCollection(ctx, name); err != nil {
		if commandCode(err) == codeNamespaceExists {
			return store.ErrNamespaceExists
		}
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return nil
}

func (s *Store) DropNamespace(ctx context.Context, name string) error {
	// newer servers report success when dropping a missing collection
	exists, err := s.namespaceExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNamespaceNotFound
	}
	if err := s.db.RunCommand(ctx, bson.D{{Key: "drop", Value: name}}).Err(); err != nil {
		if commandCode(err) == codeNamespaceNotFound {
			return store.ErrNamespaceNotFound
		}
		return fmt.Errorf("failed to drop collection %s: %w", name, err)
	}
	return nil
}

func (s *Store) RenameNamespace(ctx context.Context, from, to string, dropTarget bool) error {
	if from == to {
		exists, err := s.namespaceExists(ctx, from)
		if err != nil {
			return err
		}
		if !exists {
			return store.ErrNamespaceNotFound
		}
		return nil
	}

	dbName := s.db.Name()
	cmd := bson.D{
		{Key: "renameCollection", Value: dbName + "." + from},
		{Key: "to", Value: dbName + "." + to},
		{Key: "dropTarget", Value: dropTarget},
	}
	if err := s.client.Database("admin").RunCommand(ctx, cmd).Err(); err != nil {
		switch commandCode(err) {
		case codeNamespaceNotFound:
			return store.ErrNamespaceNotFound
		case codeNamespaceExists:
			return store.ErrNamespaceExists
		}
		return fmt.Errorf("failed to rename collection %s to %s: %w", from, to, err)
	}
	return nil
}

func (s *Store) OrphanNamespaces(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.D{{Key: "name", Value: bson.D{{Key: "$regex", Value: "^" + regexp.QuoteMeta(prefix)}}}}
	names, err := s.db.ListCollectionNames(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	owned, err := s.orgs.Distinct(ctx, "collection_name", bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list organization namespaces: %w", err)
	}
	ownedSet := make(map[string]struct{}, len(owned))
	for _, v := range owned {
		if ns, ok := v.(string); ok {
			ownedSet[ns] = struct{}{}
		}
	}

	var orphans []string
	for _, name := range names {
		if _, ok := ownedSet[name]; !ok {
			orphans = append(orphans, name)
		}
	}
	sort.Strings(orphans)
	return orphans, nil
}
