package model

import (
	"context"
	"time"

	"HProject/service/mgo"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Message 站内信主文档
// db.message.createIndex({ tenant_id: 1, message_id: 1 }, { unique: true })
// db.message.createIndex({ tenant_id: 1, recipient_emails: 1, created_at: -1 })
type Message struct {
	ID       primitive.ObjectID `bson:"_id,omitempty"  json:"_id,omitempty"`
	TenantID string             `bson:"tenant_id"      json:"tenant_id"` // PK
	MsgID    string             `bson:"message_id"     json:"message_id"`

	Subject     string `bson:"subject"       json:"subject"`
	Body        string `bson:"body,omitempty" json:"body,omitempty"`
	SenderEmail string `bson:"sender_email"  json:"sender_email"`
	SenderName  string `bson:"sender_name"   json:"sender_name"`

	RecipientEmails []string `bson:"recipient_emails" json:"recipient_emails"`
	ReadBy          []string `bson:"read_by,omitempty" json:"read_by,omitempty"` // 已读用户邮箱

	Attachments []Attachment `bson:"attachments,omitempty" json:"attachments,omitempty"`
	Links       []string     `bson:"links,omitempty"       json:"links,omitempty"`

	Deleted   bool      `bson:"deleted"    json:"deleted"` // 墓碑，不物理删除
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

type Attachment struct {
	FileID   string `bson:"file_id"   json:"file_id"`
	FileName string `bson:"file_name" json:"file_name"`
	Size     int64  `bson:"size"      json:"size"`
}

func (m *Message) GetTableName() string { return "message" }

func (m *Message) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(m.GetTableName())
}

// Insert 幂等插入：同 (tenant_id, message_id) 已存在就跳过（kafka 重投保护）
func (m *Message) Insert(ctx context.Context) (bool, error) {
	filter := bson.M{"tenant_id": m.TenantID, "message_id": m.MsgID}
	update := bson.M{"$setOnInsert": m}
	res, err := m.Collection().UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return false, err
	}
	return res.UpsertedCount > 0, nil
}

// MarkRead 把 reader 加进 read_by；返回是否首次标记（重复已读是 no-op）
func MarkRead(ctx context.Context, tenantID, msgID, reader string) (bool, error) {
	coll := (&Message{}).Collection()
	filter := bson.M{
		"tenant_id":        tenantID,
		"message_id":       msgID,
		"deleted":          false,
		"recipient_emails": reader,
		"read_by":          bson.M{"$ne": reader},
	}
	update := bson.M{
		"$addToSet": bson.M{"read_by": reader},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	}
	res, err := coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// Tombstone 逻辑删除，只有发件人可删；返回删除前的文档
func Tombstone(ctx context.Context, tenantID, msgID, sender string) (*Message, error) {
	coll := (&Message{}).Collection()
	filter := bson.M{
		"tenant_id":    tenantID,
		"message_id":   msgID,
		"sender_email": sender,
		"deleted":      false,
	}
	update := bson.M{"$set": bson.M{"deleted": true, "updated_at": time.Now().UTC()}}
	var prev Message
	err := coll.FindOneAndUpdate(ctx, filter, update).Decode(&prev)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &prev, nil
}

// GetByID 按消息 ID 查
func GetByID(ctx context.Context, tenantID, msgID string) (*Message, error) {
	var m Message
	err := (&Message{}).Collection().FindOne(ctx,
		bson.M{"tenant_id": tenantID, "message_id": msgID, "deleted": false}).Decode(&m)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// AddAttachment 追加附件并回写计数
func AddAttachment(ctx context.Context, tenantID, msgID string, att Attachment) error {
	coll := (&Message{}).Collection()
	filter := bson.M{"tenant_id": tenantID, "message_id": msgID, "deleted": false}
	update := bson.M{
		"$push": bson.M{"attachments": att},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}
	_, err := coll.UpdateOne(ctx, filter, update)
	return err
}

// RemoveAttachment 按 fileID 摘除附件
func RemoveAttachment(ctx context.Context, tenantID, msgID, fileID string) error {
	coll := (&Message{}).Collection()
	filter := bson.M{"tenant_id": tenantID, "message_id": msgID}
	update := bson.M{
		"$pull": bson.M{"attachments": bson.M{"file_id": fileID}},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}
	_, err := coll.UpdateOne(ctx, filter, update)
	return err
}

// AddLink / RemoveLink 消息引用链接的增删
func AddLink(ctx context.Context, tenantID, msgID, url string) error {
	_, err := (&Message{}).Collection().UpdateOne(ctx,
		bson.M{"tenant_id": tenantID, "message_id": msgID, "deleted": false},
		bson.M{"$addToSet": bson.M{"links": url}, "$set": bson.M{"updated_at": time.Now().UTC()}})
	return err
}

func RemoveLink(ctx context.Context, tenantID, msgID, url string) error {
	_, err := (&Message{}).Collection().UpdateOne(ctx,
		bson.M{"tenant_id": tenantID, "message_id": msgID},
		bson.M{"$pull": bson.M{"links": url}, "$set": bson.M{"updated_at": time.Now().UTC()}})
	return err
}
