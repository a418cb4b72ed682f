package config // package config loads application configuration from environment variables

import (
    "os"      // os provides access to environment variables
    "strconv" // strconv converts strings to other types

    "github.com/labstack/gommon/log" // log reports configuration errors and halts execution
)

// Ledger drivers accepted in LEDGER_DRIVER.
const (
    LedgerMySQL  = "mysql"
    LedgerMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Database settings are only required when the
// MySQL ledger is selected.
type Config struct {
    Env           string // application environment (e.g. "dev", "prod")
    Port          string // HTTP port to listen on
    LedgerDriver  string // "mysql" or "memory"
    SeedDemo      bool   // load demo inventory into the memory ledger
    DBUser        string // database username
    DBPass        string // database password (optional)
    DBHost        string // database host address
    DBPort        string // database port number
    DBName        string // database name
    JWTSecret     string // secret used to sign JWTs
    AccessTTLMin  int    // access token time‑to‑live in minutes
    BcryptCost    int    // bcrypt cost for password hashing
    WebhookSecret string // shared secret expected in X-Webhook-Secret
    AMQPURL       string // RabbitMQ URL; empty disables messaging
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
    c := Config{
        Env:           must("APP_ENV"),                           // environment (dev/test/prod)
        Port:          must("APP_PORT"),                          // port to bind the HTTP server
        LedgerDriver:  envStr("LEDGER_DRIVER", LedgerMySQL),      // durable store
        SeedDemo:      envBool("SEED_DEMO", false),               // demo inventory
        JWTSecret:     must("JWT_SECRET"),                        // secret used for signing JWTs
        AccessTTLMin:  mustInt("ACCESS_TOKEN_TTL_MIN"),           // TTL for access tokens in minutes
        BcryptCost:    mustInt("BCRYPT_COST"),                    // bcrypt cost factor
        WebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),       // empty rejects every webhook
        AMQPURL:       envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")), // broker
    }
    switch c.LedgerDriver {
    case LedgerMySQL:
        c.DBUser = must("DB_USER")
        c.DBPass = os.Getenv("DB_PASS") // empty allowed
        c.DBHost = must("DB_HOST")
        c.DBPort = must("DB_PORT")
        c.DBName = must("DB_NAME")
    case LedgerMemory:
    default:
        log.Fatalf("invalid LEDGER_DRIVER: %q", c.LedgerDriver)
    }
    return c
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatalf("missing required env var: %s", key)
    }
    return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
    s := must(key)
    n, err := strconv.Atoi(s)
    if err != nil {
        log.Fatalf("invalid int for %s: %q", key, s)
    }
    return n
}
