package config

// defaultConfigs holds "base name" → default container (image, ports,
// environment, readiness pattern) for the shorthand stack entries.
var defaultConfigs = map[string]Container{
	"spanner": {
		Name:  "spanner",
		Kind:  KindSpanner,
		Image: "gcr.io/cloud-spanner-emulator/emulator:latest",
	},
	"compose": {
		Name:         "compose",
		Kind:         KindCompose,
		ComposeFile:  "docker-compose.yml",
		RemoveImages: "local",
	},
	"mysql": {
		Name:    "mysql",
		Kind:    KindGeneric,
		Image:   "mysql:latest",
		Ports:   []string{"3306"},
		Env:     []string{"MYSQL_ROOT_PASSWORD=${MYSQL_ROOT_PASSWORD:-ephemera}"},
		WaitLog: "port: 3306  MySQL Community Server",
	},
	"postgres": {
		Name:    "postgres",
		Kind:    KindGeneric,
		Image:   "postgres:latest",
		Ports:   []string{"5432"},
		Env:     []string{"POSTGRES_PASSWORD=${POSTGRES_PASSWORD:-ephemera}"},
		WaitLog: "database system is ready to accept connections",
	},
	"postgresql": {
		Name:    "postgres",
		Kind:    KindGeneric,
		Image:   "postgres:latest",
		Ports:   []string{"5432"},
		Env:     []string{"POSTGRES_PASSWORD=${POSTGRES_PASSWORD:-ephemera}"},
		WaitLog: "database system is ready to accept connections",
	},
	"mongodb": {
		Name:  "mongodb",
		Kind:  KindGeneric,
		Image: "mongo:latest",
		Ports: []string{"27017"},
		Env: []string{
			"MONGO_INITDB_ROOT_USERNAME=root",
			"MONGO_INITDB_ROOT_PASSWORD=${MONGO_PASSWORD:-ephemera}",
		},
		WaitLog: "Waiting for connections",
	},
	"redis": {
		Name:    "redis",
		Kind:    KindGeneric,
		Image:   "redis:latest",
		Ports:   []string{"6379"},
		WaitLog: "Ready to accept connections",
	},
	"memcached": {
		Name:     "memcached",
		Kind:     KindGeneric,
		Image:    "memcached:latest",
		Ports:    []string{"11211"},
		WaitPort: "11211",
	},
	"rabbitmq": {
		Name:    "rabbitmq",
		Kind:    KindGeneric,
		Image:   "rabbitmq:latest",
		Ports:   []string{"5672", "15672"},
		WaitLog: "Server startup complete",
	},
}
