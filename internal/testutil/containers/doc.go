// Package containers starts the Docker dependencies of the integration tests
// with testcontainers-go:
//
//   - MySQL 8.0, backing the submission store and the database cache backend
//   - Eclipse Mosquitto, receiving published gateway events
//
// Containers are shared per test package through TestMain:
//
//	var mysqlContainer *containers.MySQLContainer
//
//	func TestMain(m *testing.M) {
//	    var err error
//	    mysqlContainer, err = containers.NewMySQLContainer(context.Background(), nil)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    code := m.Run()
//	    _ = mysqlContainer.Terminate(context.Background())
//	    os.Exit(code)
//	}
//
// Files using this package carry the "integration" build tag:
//
//	go test -tags=integration ./...
//
package containers
