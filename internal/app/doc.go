// Package app composes the betting engine from its services.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── access/         # Roles and grants
//	│   ├── bet/            # Commitments, bet requests and outcomes
//	│   ├── lottery/        # Rounds, ticket batches and results
//	│   ├── platform/       # Platform settings and the game registry
//	│   ├── random/         # Randomness requests and words
//	│   └── treasury/       # Balances, pools, journal and ledger settings
//	├── storage/            # Transactional store interfaces
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic, one package per concern
//	├── events/             # Event bus and redis fan-out
//	├── httpapi/            # REST handlers and routing
//	├── metrics/            # Prometheus collectors
//	├── runtime/            # Process wiring (store, server, shutdown)
//	└── system/             # Lifecycle manager for background services
//
// # Responsibilities
//
// The app package is responsible for:
//
//   - Building the treasury, platform, coordinator and provider from config
//   - Registering configured games and reattaching games stored earlier
//   - Routing randomness fulfilments to the game or lottery that asked
//   - Starting and stopping background services
//
// Every state change goes through storage.Store.Update, so a bet debit, its
// randomness request and the bet record commit or roll back together.
//
// # Dependency Direction
//
//	cmd/marcasino/
//	      │
//	      ▼
//	internal/app/runtime ──► internal/app/httpapi
//	      │                         │
//	      ▼                         │
//	internal/app (composition) ◄────┘
//	      │
//	      ├──► internal/app/services/* (business logic)
//	      │           │
//	      │           └──► internal/app/storage (interfaces only)
//	      │
//	      └──► internal/app/storage/{memory,postgres}
package app
