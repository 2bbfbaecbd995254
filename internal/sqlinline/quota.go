package sqlinline

const QSelectQuotaRecord = `--sql 9a595455-448c-4fd6-b946-e33232c3abb5
select record
from quota_records
where user_id = $1::text
limit 1;
`

const QUpsertQuotaRecord = `--sql a2e140c1-7867-4d4f-b963-09eda2436551
insert into quota_records (user_id, record, updated_at)
values ($1::text, $2::jsonb, now())
on conflict (user_id) do update set
    record = excluded.record,
    updated_at = now();
`

const QDeleteQuotaRecord = `--sql ece9de63-628c-4072-9d5e-276182fa571b
delete from quota_records
where user_id = $1::text;
`

const QQuotaSummary = `--sql fc02bec6-dafe-4ea3-8cf3-ec6b3ddb96fb
select
    count(*) as users,
    count(*) filter (where record ? 'premium') as premium_users
from quota_records;
`
