package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/models"
)

// DynamoDBService implements RecordStore and KeyVersionStore.
//
// Tables:
//   - records:  PK ownerId (S), SK seq (N)
//   - tips:     PK ownerId (S) — per-owner chain tip {tipHash, tipSeq}
//   - keys:     PK version (N)
//
// Record append is a TransactWriteItems pairing the record put with a
// conditional advance of the tip item; two writers racing on the same owner
// cannot both commit, which is what keeps forks out of the chain at write
// time. Key rotation uses the same transactional guarantee for the
// single-active-key invariant.
type DynamoDBService struct {
	client           *dynamodb.Client
	recordsTableName string
	tipsTableName    string
	keysTableName    string
}

// NewDynamoDBService creates a new DynamoDBService instance.
func NewDynamoDBService(client *dynamodb.Client, recordsTableName, tipsTableName, keysTableName string) *DynamoDBService {
	return &DynamoDBService{
		client:           client,
		recordsTableName: recordsTableName,
		tipsTableName:    tipsTableName,
		keysTableName:    keysTableName,
	}
}

// chainTip is the per-owner tip item.
type chainTip struct {
	OwnerID string `dynamodbav:"ownerId"`
	TipHash string `dynamodbav:"tipHash"`
	TipSeq  int64  `dynamodbav:"tipSeq"`
}

// LastRecord returns the owner's most recent record, or nil for an empty chain.
func (ddb *DynamoDBService) LastRecord(ctx context.Context, ownerID string) (*models.ActivityRecord, error) {
	result, err := ddb.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(ddb.recordsTableName),
		KeyConditionExpression: aws.String("ownerId = :ownerId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ownerId": &types.AttributeValueMemberS{Value: ownerID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("querying chain tip: %w", err)
	}

	if len(result.Items) == 0 {
		return nil, nil
	}

	var record models.ActivityRecord
	if err := attributevalue.UnmarshalMap(result.Items[0], &record); err != nil {
		return nil, fmt.Errorf("unmarshalling tip record: %w", err)
	}
	return &record, nil
}

// InsertRecord appends a record atomically relative to the owner's tip.
func (ddb *DynamoDBService) InsertRecord(ctx context.Context, record *models.ActivityRecord) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("marshalling record: %w", err)
	}

	tipItem, err := attributevalue.MarshalMap(chainTip{
		OwnerID: record.OwnerID,
		TipHash: record.Hash,
		TipSeq:  record.Sequence,
	})
	if err != nil {
		return fmt.Errorf("marshalling chain tip: %w", err)
	}

	tipPut := &types.Put{
		TableName: aws.String(ddb.tipsTableName),
		Item:      tipItem,
	}
	if record.IsGenesis() {
		// Two concurrent "first records" must not both succeed.
		tipPut.ConditionExpression = aws.String("attribute_not_exists(ownerId)")
	} else {
		tipPut.ConditionExpression = aws.String("tipHash = :prev")
		tipPut.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberS{Value: record.PreviousHash},
		}
	}

	_, err = ddb.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(ddb.recordsTableName),
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(ownerId)"),
				},
			},
			{Put: tipPut},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return fmt.Errorf("owner %s tip moved: %w", record.OwnerID, models.ErrConcurrentAppend)
		}
		return fmt.Errorf("inserting record: %w", err)
	}

	log.Printf("✅ Record persisted: owner=%s seq=%d", record.OwnerID, record.Sequence)
	return nil
}

// FindRecord returns a record by its ID, or nil when absent.
func (ddb *DynamoDBService) FindRecord(ctx context.Context, ownerID, recordID string) (*models.ActivityRecord, error) {
	return ddb.queryOne(ctx, ownerID, "recordId = :val", recordID)
}

// FindByHash returns the record with the given hash, or nil when absent.
func (ddb *DynamoDBService) FindByHash(ctx context.Context, ownerID, hash string) (*models.ActivityRecord, error) {
	return ddb.queryOne(ctx, ownerID, "#h = :val", hash)
}

// FindByPreviousHash returns every record claiming the given predecessor.
func (ddb *DynamoDBService) FindByPreviousHash(ctx context.Context, ownerID, previousHash string) ([]models.ActivityRecord, error) {
	result, err := ddb.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(ddb.recordsTableName),
		KeyConditionExpression: aws.String("ownerId = :ownerId"),
		FilterExpression:       aws.String("previousHash = :prev"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ownerId": &types.AttributeValueMemberS{Value: ownerID},
			":prev":    &types.AttributeValueMemberS{Value: previousHash},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("querying records by previous hash: %w", err)
	}

	var records []models.ActivityRecord
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &records); err != nil {
		return nil, fmt.Errorf("unmarshalling records: %w", err)
	}
	return records, nil
}

// ListRecords returns up to limit records in creation order from genesis.
func (ddb *DynamoDBService) ListRecords(ctx context.Context, ownerID string, limit int) ([]models.ActivityRecord, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(ddb.recordsTableName),
		KeyConditionExpression: aws.String("ownerId = :ownerId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ownerId": &types.AttributeValueMemberS{Value: ownerID},
		},
		ScanIndexForward: aws.Bool(true),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	result, err := ddb.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	var records []models.ActivityRecord
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &records); err != nil {
		return nil, fmt.Errorf("unmarshalling records: %w", err)
	}
	return records, nil
}

// MarkVerified stamps the verification annotation on a stored record.
func (ddb *DynamoDBService) MarkVerified(ctx context.Context, ownerID, recordID, verifiedBy string, verifiedAt time.Time) error {
	record, err := ddb.FindRecord(ctx, ownerID, recordID)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("record %s: %w", recordID, models.ErrRecordNotFound)
	}

	_, err = ddb.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(ddb.recordsTableName),
		Key: map[string]types.AttributeValue{
			"ownerId": &types.AttributeValueMemberS{Value: ownerID},
			"seq":     &types.AttributeValueMemberN{Value: strconv.FormatInt(record.Sequence, 10)},
		},
		UpdateExpression: aws.String("SET verified = :v, verifiedAt = :at, verifiedBy = :by"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v":  &types.AttributeValueMemberBOOL{Value: true},
			":at": &types.AttributeValueMemberS{Value: verifiedAt.Format(time.RFC3339Nano)},
			":by": &types.AttributeValueMemberS{Value: verifiedBy},
		},
	})
	if err != nil {
		return fmt.Errorf("annotating verified record: %w", err)
	}
	return nil
}

// queryOne filters an owner's partition and returns the first match.
func (ddb *DynamoDBService) queryOne(ctx context.Context, ownerID, filter, value string) (*models.ActivityRecord, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(ddb.recordsTableName),
		KeyConditionExpression: aws.String("ownerId = :ownerId"),
		FilterExpression:       aws.String(filter),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ownerId": &types.AttributeValueMemberS{Value: ownerID},
			":val":     &types.AttributeValueMemberS{Value: value},
		},
	}
	// "hash" is a DynamoDB reserved word.
	if filter == "#h = :val" {
		input.ExpressionAttributeNames = map[string]string{"#h": "hash"}
	}

	result, err := ddb.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("querying record: %w", err)
	}

	if len(result.Items) == 0 {
		return nil, nil
	}

	var record models.ActivityRecord
	if err := attributevalue.UnmarshalMap(result.Items[0], &record); err != nil {
		return nil, fmt.Errorf("unmarshalling record: %w", err)
	}
	return &record, nil
}

// ActiveKey returns the ACTIVE key version, or nil when none exists.
func (ddb *DynamoDBService) ActiveKey(ctx context.Context) (*models.KeyVersion, error) {
	result, err := ddb.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(ddb.keysTableName),
		FilterExpression: aws.String("#s = :active"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":active": &types.AttributeValueMemberS{Value: models.KeyStatusActive},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scanning for active key: %w", err)
	}

	if len(result.Items) == 0 {
		return nil, nil
	}

	var key models.KeyVersion
	if err := attributevalue.UnmarshalMap(result.Items[0], &key); err != nil {
		return nil, fmt.Errorf("unmarshalling active key: %w", err)
	}
	return &key, nil
}

// KeyByVersion returns one key version, or nil when absent.
func (ddb *DynamoDBService) KeyByVersion(ctx context.Context, version int) (*models.KeyVersion, error) {
	result, err := ddb.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(ddb.keysTableName),
		Key: map[string]types.AttributeValue{
			"version": &types.AttributeValueMemberN{Value: strconv.Itoa(version)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetching key version %d: %w", version, err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var key models.KeyVersion
	if err := attributevalue.UnmarshalMap(result.Item, &key); err != nil {
		return nil, fmt.Errorf("unmarshalling key version: %w", err)
	}
	return &key, nil
}

// ListKeys returns every key version.
func (ddb *DynamoDBService) ListKeys(ctx context.Context) ([]models.KeyVersion, error) {
	result, err := ddb.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(ddb.keysTableName),
	})
	if err != nil {
		return nil, fmt.Errorf("scanning key versions: %w", err)
	}

	var keys []models.KeyVersion
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &keys); err != nil {
		return nil, fmt.Errorf("unmarshalling key versions: %w", err)
	}
	return keys, nil
}

// PutNewKey persists a freshly created version; version numbers are never reused.
func (ddb *DynamoDBService) PutNewKey(ctx context.Context, key *models.KeyVersion) error {
	item, err := attributevalue.MarshalMap(key)
	if err != nil {
		return fmt.Errorf("marshalling key version: %w", err)
	}

	_, err = ddb.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(ddb.keysTableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return fmt.Errorf("version %d already exists: %w", key.Version, models.ErrInvalidKeyState)
		}
		return fmt.Errorf("persisting key version: %w", err)
	}
	return nil
}

// RotateKeys atomically deactivates old and persists next as ACTIVE. A
// partial rotation (old ROTATED, no new ACTIVE) cannot happen: either both
// writes commit or neither does.
func (ddb *DynamoDBService) RotateKeys(ctx context.Context, old, next *models.KeyVersion) error {
	nextItem, err := attributevalue.MarshalMap(next)
	if err != nil {
		return fmt.Errorf("marshalling new key version: %w", err)
	}

	_, err = ddb.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName: aws.String(ddb.keysTableName),
					Key: map[string]types.AttributeValue{
						"version": &types.AttributeValueMemberN{Value: strconv.Itoa(old.Version)},
					},
					UpdateExpression:    aws.String("SET #s = :rotated, validUntil = :until, updatedAt = :now"),
					ConditionExpression: aws.String("#s = :active"),
					ExpressionAttributeNames: map[string]string{
						"#s": "status",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":rotated": &types.AttributeValueMemberS{Value: models.KeyStatusRotated},
						":active":  &types.AttributeValueMemberS{Value: models.KeyStatusActive},
						":until":   &types.AttributeValueMemberS{Value: old.ValidUntil.Format(time.RFC3339Nano)},
						":now":     &types.AttributeValueMemberS{Value: old.UpdatedAt.Format(time.RFC3339Nano)},
					},
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(ddb.keysTableName),
					Item:                nextItem,
					ConditionExpression: aws.String("attribute_not_exists(version)"),
				},
			},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return fmt.Errorf("key version %d no longer active: %w", old.Version, models.ErrInvalidKeyState)
		}
		return fmt.Errorf("rotating keys: %w", err)
	}

	return nil
}

// UpdateKeyStatus persists a status change guarded by the expected previous status.
func (ddb *DynamoDBService) UpdateKeyStatus(ctx context.Context, key *models.KeyVersion, expectedStatus string) error {
	item, err := attributevalue.MarshalMap(key)
	if err != nil {
		return fmt.Errorf("marshalling key version: %w", err)
	}

	_, err = ddb.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(ddb.keysTableName),
		Item:                item,
		ConditionExpression: aws.String("#s = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return fmt.Errorf("key version %d changed state concurrently: %w", key.Version, models.ErrInvalidKeyState)
		}
		return fmt.Errorf("updating key status: %w", err)
	}
	return nil
}

// IncrementSignatures bumps the usage counters of a key version.
func (ddb *DynamoDBService) IncrementSignatures(ctx context.Context, version int, created, verified int64) error {
	_, err := ddb.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(ddb.keysTableName),
		Key: map[string]types.AttributeValue{
			"version": &types.AttributeValueMemberN{Value: strconv.Itoa(version)},
		},
		UpdateExpression: aws.String("ADD signaturesCreated :c, signaturesVerified :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberN{Value: strconv.FormatInt(created, 10)},
			":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(verified, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("incrementing signature counters: %w", err)
	}
	return nil
}
