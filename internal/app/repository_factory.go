package app

import (
	"fmt"

	calendarDomain "github.com/felixgeelhaar/blade/internal/calendar/domain"
	calendarMongo "github.com/felixgeelhaar/blade/internal/calendar/infrastructure/mongo"
	calendarPersistence "github.com/felixgeelhaar/blade/internal/calendar/infrastructure/persistence"
	identityOAuth "github.com/felixgeelhaar/blade/internal/identity/application/oauth"
	identityDomain "github.com/felixgeelhaar/blade/internal/identity/domain"
	identityMongo "github.com/felixgeelhaar/blade/internal/identity/infrastructure/mongo"
	identityPersistence "github.com/felixgeelhaar/blade/internal/identity/infrastructure/persistence"
	sharedApplication "github.com/felixgeelhaar/blade/internal/shared/application"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/database/mongodb"
	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/outbox"
)

// RepositoryFactory creates repositories based on the database driver.
type RepositoryFactory struct {
	conn   database.Connection
	store  *mongodb.Store
	driver database.Driver
}

// NewRepositoryFactory creates a factory over a SQL connection.
func NewRepositoryFactory(conn database.Connection) *RepositoryFactory {
	return &RepositoryFactory{
		conn:   conn,
		driver: conn.Driver(),
	}
}

// NewMongoRepositoryFactory creates a factory over the document store.
func NewMongoRepositoryFactory(store *mongodb.Store) *RepositoryFactory {
	return &RepositoryFactory{
		store:  store,
		driver: database.DriverMongo,
	}
}

// Driver returns the driver the factory builds for.
func (f *RepositoryFactory) Driver() database.Driver {
	return f.driver
}

// UserRepository creates a user repository for the configured driver.
func (f *RepositoryFactory) UserRepository() (identityDomain.UserRepository, error) {
	switch {
	case f.driver.IsSQL():
		return identityPersistence.NewSQLUserRepository(f.conn), nil
	case f.driver == database.DriverMongo:
		return identityMongo.NewUserRepository(f.store), nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", f.driver)
	}
}

// CredentialStore creates the encrypted credential store. Credentials live
// on the user record in every backend.
func (f *RepositoryFactory) CredentialStore() (identityOAuth.CredentialStore, error) {
	switch {
	case f.driver.IsSQL():
		return identityPersistence.NewSQLUserRepository(f.conn), nil
	case f.driver == database.DriverMongo:
		return identityMongo.NewUserRepository(f.store), nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", f.driver)
	}
}

// StateStore creates the authorization state store for the configured driver.
func (f *RepositoryFactory) StateStore() (identityOAuth.StateStore, error) {
	switch {
	case f.driver.IsSQL():
		return identityPersistence.NewSQLStateStore(f.conn), nil
	case f.driver == database.DriverMongo:
		return identityMongo.NewStateStore(f.store), nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", f.driver)
	}
}

// BusyBlockRepository creates a busy block repository for the configured driver.
func (f *RepositoryFactory) BusyBlockRepository() (calendarDomain.BusyBlockRepository, error) {
	switch {
	case f.driver.IsSQL():
		return calendarPersistence.NewSQLBusyBlockRepository(f.conn), nil
	case f.driver == database.DriverMongo:
		return calendarMongo.NewBusyBlockRepository(f.store), nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", f.driver)
	}
}

// EventRepository creates a calendar event repository for the configured driver.
func (f *RepositoryFactory) EventRepository() (calendarDomain.EventRepository, error) {
	switch {
	case f.driver.IsSQL():
		return calendarPersistence.NewSQLEventRepository(f.conn), nil
	case f.driver == database.DriverMongo:
		return calendarMongo.NewEventRepository(f.store), nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", f.driver)
	}
}

// OutboxRepository creates an outbox repository for the configured driver.
func (f *RepositoryFactory) OutboxRepository() (outbox.Repository, error) {
	switch {
	case f.driver.IsSQL():
		return outbox.NewSQLRepository(f.conn), nil
	case f.driver == database.DriverMongo:
		return outbox.NewMongoRepository(f.store), nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", f.driver)
	}
}

// UnitOfWork returns a transactional unit of work for SQL drivers. The
// document store has none and gets nil, so writes apply one by one.
func (f *RepositoryFactory) UnitOfWork() sharedApplication.UnitOfWork {
	if f.driver.IsSQL() {
		return database.NewUnitOfWork(f.conn)
	}
	return nil
}

// Repositories bundles every repository the services need.
type Repositories struct {
	Users       identityDomain.UserRepository
	Credentials identityOAuth.CredentialStore
	States      identityOAuth.StateStore
	BusyBlocks  calendarDomain.BusyBlockRepository
	Events      calendarDomain.EventRepository
	Outbox      outbox.Repository
	UnitOfWork  sharedApplication.UnitOfWork
}

// Build creates every repository at once.
func (f *RepositoryFactory) Build() (*Repositories, error) {
	var (
		repos Repositories
		err   error
	)
	if repos.Users, err = f.UserRepository(); err != nil {
		return nil, err
	}
	if repos.Credentials, err = f.CredentialStore(); err != nil {
		return nil, err
	}
	if repos.States, err = f.StateStore(); err != nil {
		return nil, err
	}
	if repos.BusyBlocks, err = f.BusyBlockRepository(); err != nil {
		return nil, err
	}
	if repos.Events, err = f.EventRepository(); err != nil {
		return nil, err
	}
	if repos.Outbox, err = f.OutboxRepository(); err != nil {
		return nil, err
	}
	repos.UnitOfWork = f.UnitOfWork()
	return &repos, nil
}
