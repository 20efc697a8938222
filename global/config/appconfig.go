package config

// 节点角色：API 节点跑 HTTP 面，Flow 节点跑 kafka 消费
const (
	NodeTypeApiNode  = "apiNode"
	NodeTypeFlowNode = "flowNode"
)

type AppConfig struct {
	NodeType string
	NodeId   string
	GroupId  string // kafka group
	Port     int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MongoUri string
	MongoDB  string

	PgDSN string

	NatsServers  []string
	KafkaBrokers []string

	JwtSecret string
}
